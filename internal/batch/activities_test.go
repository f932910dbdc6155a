package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profilecore/internal/model"
)

func TestBuildCompanyResults_FailureProducesSingleMarkerRow(t *testing.T) {
	company := model.PendingCompany{CNPJBasico: "12345678", DiscoveryID: "d1", WebsiteURL: "https://acme.test"}
	rows := BuildCompanyResults(company, `{"tag":"scrape:error","message":"boom"}`, nil, nil, 2, 450.5)

	require.Len(t, rows, 1)
	row := rows[0]
	assert.False(t, row.Success)
	assert.Equal(t, "12345678", row.CNPJBasico)
	assert.Equal(t, `{"tag":"scrape:error","message":"boom"}`, row.Error)
	assert.Equal(t, 2, row.RetryCount)
	assert.Equal(t, 450.5, row.ProcessingMS)
}

func TestBuildCompanyResults_SuccessProducesOneRowPerChunk(t *testing.T) {
	company := model.PendingCompany{CNPJBasico: "12345678", WebsiteURL: "https://acme.test"}
	chunks := []model.Chunk{
		{Index: 0, TotalChunks: 2, Content: "first", Tokens: 100, PagesIncluded: []string{"https://acme.test"}},
		{Index: 1, TotalChunks: 2, Content: "second", Tokens: 80},
	}
	visited := []string{"https://acme.test", "https://acme.test/about"}

	rows := BuildCompanyResults(company, "", chunks, visited, 0, 900)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Success)
	assert.Equal(t, "https://acme.test", rows[0].PageSource)
	assert.Equal(t, "https://acme.test,https://acme.test/about", rows[1].PageSource)
}

func TestBuildCompanyResults_FallbackPagesCappedAtFive(t *testing.T) {
	company := model.PendingCompany{CNPJBasico: "12345678"}
	chunks := []model.Chunk{{Index: 0, TotalChunks: 1, Content: "x"}}
	visited := []string{"a", "b", "c", "d", "e", "f", "g"}

	rows := BuildCompanyResults(company, "", chunks, visited, 0, 100)
	require.Len(t, rows, 1)
	assert.Equal(t, "a,b,c,d,e", rows[0].PageSource)
}

func TestBuildCompanyResults_NoChunksYieldsEmptySlice(t *testing.T) {
	company := model.PendingCompany{CNPJBasico: "12345678"}
	rows := BuildCompanyResults(company, "", nil, nil, 0, 0)
	assert.Empty(t, rows)
}
