package net

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterChain(t *testing.T) {
	errDenied := errors.New("denied")

	tests := []struct {
		name      string
		filters   FilterChain
		wantCalls []string
		wantErr   error
	}{
		{
			name:      "empty chain calls handler",
			wantCalls: []string{"handler"},
		},
		{
			name: "filters run in order",
			filters: FilterChain{
				func(d *Delivery, next FilterHandleFunc) error {
					d.From = NetEndPoint{}
					return next(d)
				},
				func(d *Delivery, next FilterHandleFunc) error {
					return next(d)
				},
			},
			wantCalls: []string{"handler"},
		},
		{
			name: "filter can drop",
			filters: FilterChain{
				func(*Delivery, FilterHandleFunc) error { return nil },
			},
		},
		{
			name: "filter error stops the chain",
			filters: FilterChain{
				func(*Delivery, FilterHandleFunc) error { return errDenied },
				func(d *Delivery, next FilterHandleFunc) error { return next(d) },
			},
			wantErr: errDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			err := tt.filters.Handle(&Delivery{}, func(*Delivery) error {
				calls = append(calls, "handler")
				return nil
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}
