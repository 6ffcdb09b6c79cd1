//    Copyright 2026 The Periferia Authors
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package util

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestUntilCanceledStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := UntilCanceled(ctx, zerolog.Nop(), "test", func() error {
		calls++
		if calls >= 3 {
			cancel()
		}
		return nil
	})
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestUntilCanceledRetriesAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := UntilCanceled(ctx, zerolog.Nop(), "test", func() error {
		calls++
		if calls >= 4 {
			cancel()
			return nil
		}
		return errors.New("transient")
	})
	assert.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestUntilCanceledSkipsCallbackWhenAlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := UntilCanceled(ctx, zerolog.Nop(), "test", func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, calls)
}
