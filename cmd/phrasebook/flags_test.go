package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFlag_Set(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    FormatFlag
		wantErr bool
	}{
		{name: "table", value: "table", want: "table"},
		{name: "yaml", value: "yaml", want: "yaml"},
		{name: "json", value: "json", want: "json"},
		{name: "invalid value", value: "csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var flag FormatFlag
			err := flag.Set(tt.value)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid value")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, flag)
		})
	}
}

func TestKindFlag_Set(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    KindFlag
		wantErr bool
	}{
		{name: "self rated", value: "", want: ""},
		{name: "cloze", value: "cloze", want: "cloze"},
		{name: "interpretation", value: "interpretation", want: "interpretation"},
		{name: "invalid value", value: "essay", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var flag KindFlag
			err := flag.Set(tt.value)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid value")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, flag)
		})
	}
}

func TestFlags_String(t *testing.T) {
	var nilFormat *FormatFlag
	var nilKind *KindFlag
	assert.Equal(t, "", nilFormat.String())
	assert.Equal(t, "", nilKind.String())

	format := FormatFlag("yaml")
	assert.Equal(t, "yaml", format.String())
	assert.Equal(t, "FormatFlag", format.Type())
}
