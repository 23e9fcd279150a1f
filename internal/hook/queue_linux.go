//go:build linux

package hook

import (
	"context"
	"fmt"
	"time"

	"github.com/florianl/go-nfqueue/v2"
	"golang.org/x/sys/unix"
)

const verdictWriteTimeout = 15 * time.Millisecond

// Run binds to the configured NFQUEUE and answers every queued packet until
// ctx is cancelled. Packets are held by the kernel until their verdict is set,
// so Decide must be fast.
func (q *Queue) Run(ctx context.Context) error {
	nf, err := nfqueue.Open(&nfqueue.Config{
		NfQueue:      q.cfg.QueueNum,
		MaxPacketLen: q.cfg.MaxPacketLen,
		MaxQueueLen:  q.cfg.MaxQueueLen,
		Copymode:     nfqueue.NfQnlCopyPacket,
		AfFamily:     unix.AF_INET,
		Flags:        nfqueue.NfQaCfgFlagFailOpen,
		WriteTimeout: verdictWriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("hook: queue: open %d: %w", q.cfg.QueueNum, err)
	}
	defer nf.Close()

	err = nf.RegisterWithErrorFunc(ctx,
		func(a nfqueue.Attribute) int {
			q.handle(nf, a)
			return 0
		},
		func(err error) int {
			if ctx.Err() != nil {
				return 1
			}
			q.logger.Warn("nfqueue receive error", "queue", q.cfg.QueueNum, "error", err)
			return 0
		},
	)
	if err != nil {
		return fmt.Errorf("hook: queue: register %d: %w", q.cfg.QueueNum, err)
	}

	q.logger.Info("nfqueue reader started", "queue", q.cfg.QueueNum)
	<-ctx.Done()

	st := q.Stats()
	q.logger.Info("nfqueue reader stopped",
		"queue", q.cfg.QueueNum,
		"processed", st.Processed,
		"accepted", st.Accepted,
		"dropped", st.Dropped,
		"verdict_errors", st.VerdictErrors,
	)
	return nil
}

func (q *Queue) handle(nf *nfqueue.Nfqueue, a nfqueue.Attribute) {
	if a.PacketID == nil {
		return
	}
	var payload []byte
	if a.Payload != nil {
		payload = *a.Payload
	}

	verdict := nfqueue.NfAccept
	if !q.decide(payload) {
		verdict = nfqueue.NfDrop
	}
	if err := nf.SetVerdict(*a.PacketID, verdict); err != nil {
		q.verdictErrors.Add(1)
		q.logger.Warn("nfqueue set verdict failed", "packet_id", *a.PacketID, "error", err)
	}
}
