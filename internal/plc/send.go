package plc

import (
	"context"
	"fmt"
)

// SendResult is the outcome of SendOnce.
type SendResult struct {
	Key    Key `json:"key"`
	Before any `json:"before"`
	After  any `json:"after"`
}

// SendOnce opens a short-lived session, writes one Boolean and reads the
// variable back. It is meant for commissioning and manual testing, and
// bypasses any running Manager.
func SendOnce(ctx context.Context, dialer Dialer, url string, ns Namespace, name string, value bool, logger Logger) (SendResult, error) {
	logger = orNop(logger)
	res := SendResult{Key: NewKey(ns, name)}

	sess, err := dialer.Dial(ctx, url)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() {
		if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Debug("closing PLC session", "error", cerr)
		}
	}()

	before, err := sess.Read(ctx, ns, name)
	if err != nil {
		return res, fmt.Errorf("reading %s: %w", res.Key, err)
	}
	res.Before = before
	logger.Info("current value", "key", string(res.Key), "value", before)

	if err := sess.Write(ctx, ns, name, value); err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrWriteFailed, res.Key, err)
	}
	logger.Info("wrote variable", "key", string(res.Key), "value", value)

	after, err := sess.Read(ctx, ns, name)
	if err != nil {
		return res, fmt.Errorf("reading back %s: %w", res.Key, err)
	}
	res.After = after
	return res, nil
}
