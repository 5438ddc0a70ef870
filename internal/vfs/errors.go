// Copyright 2025 DevineFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vfs

import (
	"errors"
	"os"

	"github.com/sarkarsachib/devine-kernel/internal/common"
)

// mapErr converts engine sentinels into the os errors that billy consumers
// probe with os.IsNotExist and friends. The os sentinels are returned bare:
// go-nfs tests them with the legacy os.Is* helpers, which do not unwrap
// fmt.Errorf chains. Errors with no os equivalent pass through unchanged.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrNotFound):
		return os.ErrNotExist
	case errors.Is(err, common.ErrExists):
		return os.ErrExist
	case errors.Is(err, common.ErrPermission):
		return os.ErrPermission
	case errors.Is(err, common.ErrInvalidArgument):
		return os.ErrInvalid
	default:
		return err
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
