package core

import (
	"context"
	"strconv"
	"strings"
)

// NextInvoiceID returns prefix + (max existing numeric suffix + 1).
// Only ids of the form prefix+digits count, so "PR7" never feeds the "P" series.
func NextInvoiceID(prefix string, existing []string) InvoiceID {
	var max int64
	for _, id := range existing {
		suffix, ok := strings.CutPrefix(id, prefix)
		if !ok || suffix == "" {
			continue
		}
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil || n < 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return InvoiceID(prefix + strconv.FormatInt(max+1, 10))
}

// NextID computes the next invoice id for prefix from the keys of c.
func NextID[T Record[T]](ctx context.Context, c Collection[T], prefix string) (InvoiceID, error) {
	keys, err := Keys(ctx, c)
	if err != nil {
		return "", err
	}
	return NextInvoiceID(prefix, keys), nil
}
