// Copyright 2018 The Ember Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package batch

// Carrier is the sink-facing view of either transfer form: a row batch or a
// column block. Rows materialized through it are only valid until the
// carrier is reset.
type Carrier interface {
	NumRows() int
	Row(i int) Row
}

var _ Carrier = (*RowBatch)(nil)
var _ Carrier = (*Block)(nil)
