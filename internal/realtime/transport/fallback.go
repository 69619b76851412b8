package transport

import (
	"context"
	"errors"
	"fmt"

	"socialchat/pkg/logger"
)

// FallbackDialer tries each named transport in Order until one connects.
// An authentication failure stops the chain; another transport would be
// rejected for the same token.
type FallbackDialer struct {
	Order   []string
	Dialers map[string]Dialer
}

func (d *FallbackDialer) Dial(ctx context.Context, target Target) (Transport, error) {
	if len(d.Order) == 0 {
		return nil, errors.New("transport: no transports configured")
	}

	var errs []error
	for _, name := range d.Order {
		dialer, ok := d.Dialers[name]
		if !ok {
			errs = append(errs, fmt.Errorf("transport: unknown transport %q", name))
			continue
		}

		t, err := dialer.Dial(ctx, target)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logger.WithFields(map[string]interface{}{
			"transport": name,
			"error":     err.Error(),
		}).Debug("Transport failed, trying next")
		errs = append(errs, err)
	}

	return nil, errors.Join(errs...)
}
