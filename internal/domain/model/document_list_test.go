package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentListOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      DocumentListOptions
		want    DocumentListOptions
		wantErr bool
	}{
		{
			name: "defaults",
			in:   DocumentListOptions{},
			want: DocumentListOptions{Limit: DefaultListLimit},
		},
		{
			name: "clamps limit and offset",
			in:   DocumentListOptions{Kind: DocumentKindDiff, Limit: 10_000, Offset: -4},
			want: DocumentListOptions{Kind: DocumentKindDiff, Limit: MaxListLimit},
		},
		{
			name: "keeps valid filters",
			in:   DocumentListOptions{Status: DocumentStatusFailed, Limit: 5, Offset: 10},
			want: DocumentListOptions{Status: DocumentStatusFailed, Limit: 5, Offset: 10},
		},
		{name: "unknown kind", in: DocumentListOptions{Kind: "font"}, wantErr: true},
		{name: "unknown status", in: DocumentListOptions{Status: "pending"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.in
			err := opts.Normalize()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, opts)
		})
	}
}
