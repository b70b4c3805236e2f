package alert

import (
	"context"
	"fmt"

	"crmsync_backend/internal/events"
	"crmsync_backend/platform/logger"
)

// Module subscribes to engine events and notifies operators. It is not
// HTTP-facing.
type Module struct {
	sender         Sender
	log            *logger.Logger
	driftThreshold int
}

// New creates the alert module. The drift threshold is the minimum number of
// unfixed divergences before a drift alert goes out.
func New(sender Sender, log *logger.Logger, driftThreshold int) *Module {
	if sender == nil {
		sender = NoopSender{}
	}
	if driftThreshold <= 0 {
		driftThreshold = 1
	}
	return &Module{sender: sender, log: log, driftThreshold: driftThreshold}
}

// RegisterHandlers subscribes to run failure and drift events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.SyncRunFailed{}.EventName(), events.HandlerFunc(m.onSyncRunFailed))
	bus.Subscribe(events.DriftDetected{}.EventName(), events.HandlerFunc(m.onDriftDetected))
}

func (m *Module) onSyncRunFailed(ctx context.Context, event events.Event) error {
	e, ok := event.(events.SyncRunFailed)
	if !ok {
		return nil
	}

	subject := fmt.Sprintf("[crmsync] %s sync run failed", e.Mode)
	body := fmt.Sprintf("The %s sync run for company %d aborted during fetch.\n\nReason: %s\n", e.Mode, e.CompanyID, e.Reason)
	if err := m.sender.SendAlert(ctx, subject, body); err != nil {
		m.log.Error("sync failure alert not delivered", "error", err)
	}
	return nil
}

func (m *Module) onDriftDetected(ctx context.Context, event events.Event) error {
	e, ok := event.(events.DriftDetected)
	if !ok {
		return nil
	}

	unfixed := e.OutOfSync + e.Missing
	if unfixed < m.driftThreshold {
		return nil
	}

	subject := fmt.Sprintf("[crmsync] drift detected for company %d", e.CompanyID)
	body := fmt.Sprintf(
		"Reconciliation found the internal store out of sync with the CRM.\n\nout of sync: %d\nmissing: %d\nauto-fixed: %d\n",
		e.OutOfSync, e.Missing, e.AutoFixed,
	)
	if err := m.sender.SendAlert(ctx, subject, body); err != nil {
		m.log.Error("drift alert not delivered", "error", err)
	}
	return nil
}
