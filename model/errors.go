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

package model

import (
	"github.com/pkg/errors"
)

var (
	// InvalidArgumentError indicates a nil handle, a bad enum value or an
	// out of range pin/index.
	InvalidArgumentError = errors.New("invalid argument")
	IsInvalidArgument    = isErrorFunc(InvalidArgumentError)

	// BusyError indicates an asynchronous operation is already in flight
	// on this handle.
	BusyError = errors.New("operation in flight")
	IsBusy    = isErrorFunc(BusyError)

	// UnsupportedError indicates a feature that is absent on this back-end.
	UnsupportedError = errors.New("not supported by back-end")
	IsUnsupported    = isErrorFunc(UnsupportedError)

	// NotFoundError indicates an absent peripheral or device node.
	NotFoundError = errors.New("device not found")
	IsNotFound    = isErrorFunc(NotFoundError)

	// IOError indicates an underlying read/write failure.
	IOError = errors.New("i/o failed")
	IsIO    = isErrorFunc(IOError)

	// CancelledError indicates a pending operation was cancelled before
	// it completed.
	CancelledError = errors.New("operation cancelled")
	IsCancelled    = isErrorFunc(CancelledError)

	maskAny = errors.WithStack
)

func isErrorFunc(typeOfError error) func(err error) bool {
	return func(err error) bool {
		return err == typeOfError || errors.Cause(err) == typeOfError
	}
}
