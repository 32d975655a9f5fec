package k8s

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metricstypes "github.com/yourusername/uav-mission-core/pkg/metrics"
	"github.com/yourusername/uav-mission-core/pkg/models"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsfake "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/fake"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
)

func newFakeDynamic() *dynamicfake.FakeDynamicClient {
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{missionStatusGVR: "MissionStatusList"})
}

func TestStatusPublisher_CreatesThenUpdates(t *testing.T) {
	dyn := newFakeDynamic()
	p := NewStatusPublisher(dyn, "fleet", "survey", nil)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, p.Observe(ctx, metricstypes.TickReport{
		MissionID: "m1",
		Tick:      1,
		Timestamp: ts,
		Drones: []metricstypes.DroneTick{
			{DroneID: "dr1", Mode: models.ModeContinue, BatteryWh: 50, PlanLength: 4},
			{DroneID: "dr2", Mode: models.ModeRTB, BatteryWh: 3, PlanLength: 2},
		},
		Reassigned: map[string][]string{"dr1": {"A3"}},
	}))

	obj, err := dyn.Resource(missionStatusGVR).Namespace("fleet").Get(ctx, "survey", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "MissionStatus", obj.GetKind())

	phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase")
	assert.Equal(t, PhaseRunning, phase)
	active, _, _ := unstructured.NestedInt64(obj.Object, "status", "activeDrones")
	assert.Equal(t, int64(2), active)
	mode, _, _ := unstructured.NestedString(obj.Object, "status", "drones", "dr2", "mode")
	assert.Equal(t, "rtb", mode)
	reassigned, _, _ := unstructured.NestedSlice(obj.Object, "status", "reassigned")
	assert.Len(t, reassigned, 1)
	updated, _, _ := unstructured.NestedString(obj.Object, "status", "lastUpdated")
	assert.Equal(t, "2026-03-01T12:00:00Z", updated)

	require.NoError(t, p.Observe(ctx, metricstypes.TickReport{
		MissionID: "m1",
		Tick:      2,
		Timestamp: ts.Add(time.Second),
		Done:      true,
		Drones: []metricstypes.DroneTick{
			{DroneID: "dr1", Finished: true},
			{DroneID: "dr2", Finished: true},
		},
	}))

	obj, err = dyn.Resource(missionStatusGVR).Namespace("fleet").Get(ctx, "survey", metav1.GetOptions{})
	require.NoError(t, err)
	phase, _, _ = unstructured.NestedString(obj.Object, "status", "phase")
	assert.Equal(t, PhaseCompleted, phase)
	tick, _, _ := unstructured.NestedInt64(obj.Object, "status", "tick")
	assert.Equal(t, int64(2), tick)
	finished, _, _ := unstructured.NestedInt64(obj.Object, "status", "finishedDrones")
	assert.Equal(t, int64(2), finished)
	missionID, _, _ := unstructured.NestedString(obj.Object, "spec", "missionId")
	assert.Equal(t, "m1", missionID)
}

func TestCheckCRDs(t *testing.T) {
	ready := &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: MissionStatusCRD},
		Status: apiextensionsv1.CustomResourceDefinitionStatus{
			Conditions: []apiextensionsv1.CustomResourceDefinitionCondition{
				{Type: apiextensionsv1.Established, Status: apiextensionsv1.ConditionTrue},
			},
		},
	}
	pending := &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: "pending.uav.io"},
		Status: apiextensionsv1.CustomResourceDefinitionStatus{
			Conditions: []apiextensionsv1.CustomResourceDefinitionCondition{
				{Type: apiextensionsv1.Established, Status: apiextensionsv1.ConditionFalse},
			},
		},
	}
	client := apiextensionsfake.NewSimpleClientset(ready, pending)
	ctx := context.Background()

	assert.NoError(t, CheckCRDs(ctx, client))

	err := CheckCRDs(ctx, client, MissionStatusCRD, "pending.uav.io", "missing.uav.io")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCRDNotEstablished)
	assert.Contains(t, err.Error(), "pending.uav.io")
	assert.Contains(t, err.Error(), "missing.uav.io")
	assert.NotContains(t, err.Error(), MissionStatusCRD)
}
