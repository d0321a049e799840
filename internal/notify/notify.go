// Package notify defines the delivery contract shared by every alert channel
// and fans one batch of reports out to all configured channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/kickoffwatch/internal/logger"
	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// Notifier delivers a batch of discrepancy reports to one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, reports []models.DiscrepancyReport) error
}

// Fanout delivers every batch to all notifiers. One failing channel does not
// stop delivery to the others.
type Fanout struct {
	notifiers []Notifier
	onFailure func(name string, err error)
}

// NewFanout creates a Fanout over notifiers
func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

// Add registers another notifier
func (f *Fanout) Add(n Notifier) {
	f.notifiers = append(f.notifiers, n)
}

// OnFailure sets a hook called once per failed notifier
func (f *Fanout) OnFailure(fn func(name string, err error)) {
	f.onFailure = fn
}

// Names returns the registered notifier names in registration order
func (f *Fanout) Names() []string {
	out := make([]string, len(f.notifiers))
	for i, n := range f.notifiers {
		out[i] = n.Name()
	}
	return out
}

// Len returns the number of registered notifiers
func (f *Fanout) Len() int {
	return len(f.notifiers)
}

// Notify sends reports to every notifier. The returned error joins the
// failures of all channels; it is nil only when every channel succeeded.
func (f *Fanout) Notify(ctx context.Context, reports []models.DiscrepancyReport) error {
	if len(reports) == 0 {
		return nil
	}

	var errs []error
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, reports); err != nil {
			logger.Error("Notifier %s failed: %v", n.Name(), err)
			if f.onFailure != nil {
				f.onFailure(n.Name(), err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		logger.Debug("Notifier %s delivered %d reports", n.Name(), len(reports))
	}
	return errors.Join(errs...)
}
