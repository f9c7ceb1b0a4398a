// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package healthlog

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock InfluxDB WriteAPI ---

type MockWriteAPI struct {
	WritePointFunc func(ctx context.Context, point ...*write.Point) error
	WrittenPoints  []*write.Point
}

func (m *MockWriteAPI) WritePoint(ctx context.Context, point ...*write.Point) error {
	if m.WritePointFunc != nil {
		return m.WritePointFunc(ctx, point...)
	}
	m.WrittenPoints = append(m.WrittenPoints, point...)
	return nil
}

func (m *MockWriteAPI) WriteRecord(ctx context.Context, line ...string) error {
	return nil
}

func (m *MockWriteAPI) EnableBatching()                 {}
func (m *MockWriteAPI) Flush(ctx context.Context) error { return nil }

// --- Mock InfluxDB QueryAPI ---

type MockQueryAPI struct {
	QueryFunc func(ctx context.Context, query string) (*api.QueryTableResult, error)
	Queries   []string
}

func (m *MockQueryAPI) Query(ctx context.Context, q string) (*api.QueryTableResult, error) {
	m.Queries = append(m.Queries, q)
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, q)
	}
	return api.NewQueryTableResult(io.NopCloser(strings.NewReader(""))), nil
}

func (m *MockQueryAPI) QueryRaw(ctx context.Context, query string, dialect *domain.Dialect) (string, error) {
	return "", nil
}

func (m *MockQueryAPI) QueryRawWithParams(ctx context.Context, query string, dialect *domain.Dialect, params interface{}) (string, error) {
	return "", nil
}

func (m *MockQueryAPI) QueryWithParams(ctx context.Context, query string, params interface{}) (*api.QueryTableResult, error) {
	return nil, nil
}

const sessionCSV = `#datatype,string,long,dateTime:RFC3339,string,double,double,double,long,double,double,double
#group,false,false,false,false,false,false,false,false,false,false,false
#default,_result,,,,,,,,,,
,result,table,_time,session_id,duration_minutes,avg_ear,avg_distance_cm,drowsiness_events,avg_shoulder_tilt,avg_head_pitch,avg_head_yaw
,,0,2025-03-01T09:00:00Z,s1,30,0.28,52,1,3.5,8,4
,,0,2025-03-02T09:00:00Z,s2,45.5,0.22,38,4,12,22,18

`

func tableResult(csv string) *api.QueryTableResult {
	return api.NewQueryTableResult(io.NopCloser(strings.NewReader(csv)))
}

func newTestInfluxStore(t *testing.T, q *MockQueryAPI, w *MockWriteAPI) *InfluxStore {
	s, err := newInfluxStore(q, w, InfluxConfig{Bucket: "aeye", Org: "aeye"})
	require.NoError(t, err)
	s.backoff = time.Millisecond
	return s
}

func TestBuildSessionQuery(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	q := BuildSessionQuery("aeye", "session_summary", from, from.Add(24*time.Hour))

	assert.Contains(t, q, `from(bucket: "aeye")`)
	assert.Contains(t, q, "range(start: 2025-03-01T00:00:00Z, stop: 2025-03-02T00:00:00Z)")
	assert.Contains(t, q, `r._measurement == "session_summary"`)
	assert.Contains(t, q, "pivot(")
}

func TestInfluxStore_SessionsParsesRecords(t *testing.T) {
	q := &MockQueryAPI{QueryFunc: func(context.Context, string) (*api.QueryTableResult, error) {
		return tableResult(sessionCSV), nil
	}}
	s := newTestInfluxStore(t, q, &MockWriteAPI{})

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.Sessions(context.Background(), from, from.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, from.Add(9*time.Hour), got[0].Start.UTC())
	assert.Equal(t, got[0].Start.Add(30*time.Minute), got[0].End)
	assert.InDelta(t, 0.28, got[0].AvgEAR, 1e-9)
	assert.Equal(t, 1, got[0].DrowsinessEvents)
	assert.Equal(t, 4, got[1].DrowsinessEvents)
	assert.InDelta(t, 18.0, got[1].AvgHeadYaw, 1e-9)
	require.Len(t, q.Queries, 1)
	assert.Contains(t, q.Queries[0], DefaultMeasurement)
}

func TestInfluxStore_EmptyWindowSkipsQuery(t *testing.T) {
	q := &MockQueryAPI{}
	s := newTestInfluxStore(t, q, &MockWriteAPI{})

	got, err := s.Sessions(context.Background(), fixedNow, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, q.Queries)
}

func TestInfluxStore_RetriesTransportErrors(t *testing.T) {
	calls := 0
	q := &MockQueryAPI{QueryFunc: func(context.Context, string) (*api.QueryTableResult, error) {
		calls++
		if calls < 3 {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		}
		return tableResult(sessionCSV), nil
	}}
	s := newTestInfluxStore(t, q, &MockWriteAPI{})

	got, err := s.Sessions(context.Background(), fixedNow.AddDate(0, -1, 0), fixedNow)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 3, calls)
}

func TestInfluxStore_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	q := &MockQueryAPI{QueryFunc: func(context.Context, string) (*api.QueryTableResult, error) {
		calls++
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}}
	s := newTestInfluxStore(t, q, &MockWriteAPI{})

	_, err := s.Sessions(context.Background(), fixedNow.AddDate(0, -1, 0), fixedNow)
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.True(t, qe.Retryable)
	assert.Equal(t, "query", qe.Op)
}

func TestInfluxStore_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	q := &MockQueryAPI{QueryFunc: func(context.Context, string) (*api.QueryTableResult, error) {
		calls++
		return nil, errors.New("bucket not found")
	}}
	s := newTestInfluxStore(t, q, &MockWriteAPI{})

	_, err := s.Sessions(context.Background(), fixedNow.AddDate(0, -1, 0), fixedNow)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsQueryError(err))
}

func TestInfluxStore_WriteSessions(t *testing.T) {
	w := &MockWriteAPI{}
	s := newTestInfluxStore(t, &MockQueryAPI{}, w)

	sessions := []Session{
		session("a", fixedNow.Add(-2*time.Hour), 30, 0.3, 50, 1),
		session("b", fixedNow.Add(-time.Hour), 15, 0.26, 44, 0),
	}
	require.NoError(t, s.WriteSessions(context.Background(), sessions))
	require.Len(t, w.WrittenPoints, 2)

	p := w.WrittenPoints[0]
	assert.Equal(t, DefaultMeasurement, p.Name())
	assert.Equal(t, sessions[0].Start, p.Time())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "session_id", p.TagList()[0].Key)
	assert.Equal(t, "a", p.TagList()[0].Value)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(1), fields["drowsiness_events"])
	assert.Equal(t, 50.0, fields["avg_distance_cm"])
}

func TestInfluxStore_WriteSessionsValidatesFirst(t *testing.T) {
	w := &MockWriteAPI{}
	s := newTestInfluxStore(t, &MockQueryAPI{}, w)

	bad := session("", fixedNow, 10, 0.3, 50, 0)
	err := s.WriteSessions(context.Background(), []Session{session("ok", fixedNow, 10, 0.3, 50, 0), bad})
	require.Error(t, err)
	assert.Empty(t, w.WrittenPoints)
	assert.NoError(t, s.WriteSessions(context.Background(), nil))
}

func TestInfluxStore_WriteFailure(t *testing.T) {
	w := &MockWriteAPI{WritePointFunc: func(context.Context, ...*write.Point) error {
		return errors.New("unauthorized")
	}}
	s := newTestInfluxStore(t, &MockQueryAPI{}, w)

	err := s.WriteSessions(context.Background(), []Session{session("a", fixedNow, 10, 0.3, 50, 0)})
	require.Error(t, err)
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "write", qe.Op)
	assert.False(t, qe.Retryable)
}

func TestNewInfluxStore_Validation(t *testing.T) {
	_, err := NewInfluxStore(InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)

	_, err = newInfluxStore(&MockQueryAPI{}, &MockWriteAPI{}, InfluxConfig{Bucket: `x") |> drop()`})
	assert.Error(t, err)

	s, err := NewInfluxStore(InfluxConfig{URL: "http://localhost:8086", Org: "aeye", Bucket: "sessions", Timeout: 5 * time.Second})
	require.NoError(t, err)
	s.Close()
}
