package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonitorState_Initialized(t *testing.T) {
	var nilState *MonitorState

	assert.False(t, nilState.Initialized())
	assert.False(t, (&MonitorState{}).Initialized())
	assert.True(t, (&MonitorState{FirstRun: true}).Initialized())
	assert.True(t, (&MonitorState{DailyMin: 210, LastReportDate: "2024-01-01"}).Initialized())
	assert.True(t, (&MonitorState{LastReportDate: "2024-01-01"}).Initialized())
}
