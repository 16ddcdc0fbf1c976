// Copyright 2024 Google Inc. All Rights Reserved.
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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edenfs-go/edenfs/checkout"
	"github.com/edenfs-go/edenfs/model"
)

func TestObserveCheckoutRecordsConflictsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	cc := checkout.NewContext(model.Hash{1}, checkout.Normal)
	cc.AddConflict(checkout.Conflict{Type: checkout.Modified, Path: "a.txt"})
	cc.AddConflict(checkout.Conflict{Type: checkout.Modified, Path: "b.txt"})
	cc.Stats.TreesFetched = 3
	cc.Stats.BlobsFetched = 5

	r.ObserveCheckout(checkout.Normal, 10*time.Millisecond, cc)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var conflicts *dto.MetricFamily
	for _, mf := range metricFamilies {
		if mf.GetName() == "edenfs_checkout_conflicts_total" {
			conflicts = mf
		}
	}
	require.NotNil(t, conflicts)
	require.Len(t, conflicts.Metric, 1)
	assert.Equal(t, float64(2), conflicts.Metric[0].GetCounter().GetValue())
}

func TestNilRegistryMethodsAreNoOps(t *testing.T) {
	var r *Registry
	cc := checkout.NewContext(model.Hash{1}, checkout.Normal)
	assert.NotPanics(t, func() {
		r.ObserveCheckout(checkout.Normal, time.Millisecond, cc)
		r.SetShardOccupancy("00", 1)
	})
}
