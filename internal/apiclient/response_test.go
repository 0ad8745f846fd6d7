package apiclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_Fields(t *testing.T) {
	r := &Response{StatusCode: 201, Method: "POST", Body: map[string]any{"data": "x"}}

	f := r.Fields()
	assert.Equal(t, 201, f["status"])
	assert.Equal(t, "POST", f["method"])
	assert.Equal(t, "x", f["data"])
	assert.NotContains(t, r.Body, "status")
}

func TestResponse_Succeeded(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want bool
	}{
		{"status 200", Response{StatusCode: 200}, true},
		{"string statusCode", Response{StatusCode: 201, Body: map[string]any{"statusCode": "200"}}, true},
		{"numeric statusCode", Response{StatusCode: 201, Body: map[string]any{"statusCode": 200.0}}, true},
		{"201 without statusCode", Response{StatusCode: 201, Body: map[string]any{}}, false},
		{"error payload", Response{StatusCode: 400, Body: map[string]any{"statusCode": "400"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.Succeeded())
		})
	}
}

func TestResponse_DecodeData(t *testing.T) {
	r := &Response{Body: map[string]any{"data": map[string]any{"id": "u1", "age": 30.0}}}

	var out struct {
		ID  string `json:"id"`
		Age int    `json:"age"`
	}
	require.NoError(t, r.DecodeData(&out))
	assert.Equal(t, "u1", out.ID)
	assert.Equal(t, 30, out.Age)

	empty := &Response{Body: map[string]any{"data": nil}}
	assert.Error(t, empty.DecodeData(&out))
}

func TestDecodePayload(t *testing.T) {
	m, err := decodePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, m)

	m, err = decodePayload([]byte(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, m["data"])

	m, err = decodePayload([]byte(`<html>`))
	assert.Error(t, err)
	assert.Equal(t, "<html>", m["data"])
}
