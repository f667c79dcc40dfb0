/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package utils

import (
	"testing"
	"time"
)

func TestCalculateBackoffZeroRetries(t *testing.T) {
	if got := CalculateBackoff(0, 30*time.Second); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	if got := CalculateBackoff(-1, 30*time.Second); got != 0 {
		t.Errorf("expected 0 for negative retries, got %v", got)
	}
}

func TestCalculateBackoffBounds(t *testing.T) {
	maxBackoff := 30 * time.Second
	for retry := 1; retry <= 10; retry++ {
		base := time.Duration(1<<uint(retry-1)) * time.Second
		if base > maxBackoff {
			base = maxBackoff
		}
		got := CalculateBackoff(retry, maxBackoff)
		if got < base {
			t.Errorf("retry %d: %v below base %v", retry, got, base)
		}
		ceiling := base + base/2
		if ceiling > maxBackoff {
			ceiling = maxBackoff
		}
		if got > ceiling {
			t.Errorf("retry %d: %v above ceiling %v", retry, got, ceiling)
		}
	}
}
