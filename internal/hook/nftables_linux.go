//go:build linux

package hook

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/vishvananda/netlink"
)

// Install creates the myfw table and its prerouting base chain, and replaces
// the chain's rules with a single rule that queues IPv4 packets to the
// configured NFQUEUE. The bypass flag lets packets through while no reader
// is bound to the queue.
func (c *NftablesController) Install() error {
	if c.cfg.Interface != "" {
		if _, err := netlink.LinkByName(c.cfg.Interface); err != nil {
			return fmt.Errorf("hook: nftables: install: interface %q: %w", c.cfg.Interface, err)
		}
	}

	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("hook: nftables: install: %w", err)
	}

	table := conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   c.cfg.Table,
	})
	chain := conn.AddChain(&nftables.Chain{
		Name:     c.cfg.Chain,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: nftables.ChainPriorityFirst,
	})
	conn.FlushChain(chain)
	conn.AddRule(&nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: buildQueueExprs(c.cfg),
	})

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("hook: nftables: install into table %q: %w", c.cfg.Table, err)
	}

	c.logger.Info("nftables hook installed",
		"table", c.cfg.Table,
		"chain", c.cfg.Chain,
		"queue", c.cfg.QueueNum,
		"interface", c.cfg.Interface,
	)
	return nil
}

// Remove deletes the myfw table with everything in it. Removing a table that
// does not exist returns nil.
func (c *NftablesController) Remove() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("hook: nftables: remove: %w", err)
	}

	tables, err := conn.ListTablesOfFamily(nftables.TableFamilyIPv4)
	if err != nil {
		return fmt.Errorf("hook: nftables: remove: list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name != c.cfg.Table {
			continue
		}
		conn.DelTable(t)
		if err := conn.Flush(); err != nil {
			return fmt.Errorf("hook: nftables: remove table %q: %w", c.cfg.Table, err)
		}
		c.logger.Info("nftables hook removed", "table", c.cfg.Table)
		return nil
	}

	c.logger.Debug("nftables table not found, nothing to remove", "table", c.cfg.Table)
	return nil
}

// Verify reports whether the queue rule is installed as Install left it:
// the base chain exists in the myfw table and holds exactly one rule that
// queues to the configured number.
func (c *NftablesController) Verify() (bool, error) {
	conn, err := nftables.New()
	if err != nil {
		return false, fmt.Errorf("hook: nftables: verify: %w", err)
	}

	chains, err := conn.ListChainsOfTableFamily(nftables.TableFamilyIPv4)
	if err != nil {
		return false, fmt.Errorf("hook: nftables: verify: list chains: %w", err)
	}
	var chain *nftables.Chain
	for _, ch := range chains {
		if ch.Table != nil && ch.Table.Name == c.cfg.Table && ch.Name == c.cfg.Chain {
			chain = ch
			break
		}
	}
	if chain == nil {
		return false, nil
	}

	rules, err := conn.GetRules(chain.Table, chain)
	if err != nil {
		return false, fmt.Errorf("hook: nftables: verify: list rules: %w", err)
	}
	if len(rules) != 1 {
		return false, nil
	}
	for _, e := range rules[0].Exprs {
		if q, ok := e.(*expr.Queue); ok && q.Num == c.cfg.QueueNum {
			return true, nil
		}
	}
	return false, nil
}

// buildQueueExprs returns the expressions of the queue rule: an optional
// input interface match, a counter and the queue statement.
func buildQueueExprs(cfg Config) []expr.Any {
	var exprs []expr.Any

	if cfg.Interface != "" {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     ifaceNameBytes(cfg.Interface),
			},
		)
	}

	exprs = append(exprs,
		&expr.Counter{},
		&expr.Queue{
			Num:  cfg.QueueNum,
			Flag: expr.QueueFlagBypass,
		},
	)
	return exprs
}

// ifaceNameBytes returns the interface name as a NUL-terminated byte slice
// for nftables expression matching.
func ifaceNameBytes(name string) []byte {
	buf := make([]byte, ifNameMax+1)
	copy(buf, name)
	return buf[:len(name)+1]
}
