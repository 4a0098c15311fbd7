package fetcher

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainCSV(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	return rows, <-errCh
}

const inatExport = `id,scientific_name,longitude,latitude,observed_on
101,Quercus alba,-75.5,45.1,2021-05-04
102,Acer saccharum,-76.2,44.9,2021-06-12
`

func TestStreamCSV_HeaderAndRows(t *testing.T) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(inatExport), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	rows, err := drainCSV(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "scientific_name", "longitude", "latitude", "observed_on"}, <-headerCh)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"101", "Quercus alba", "-75.5", "45.1", "2021-05-04"}, rows[0])
	assert.Equal(t, []string{"102", "Acer saccharum", "-76.2", "44.9", "2021-06-12"}, rows[1])
}

func TestStreamCSV_NoHeader(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(inatExport), CSVOptions{})
	rows, err := drainCSV(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
}

func TestStreamCSV_HeaderDroppedWithoutChannel(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(inatExport), CSVOptions{
		HasHeader: true,
	})
	rows, err := drainCSV(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "101", rows[0][0])
}

func TestStreamCSV_TabDelimited(t *testing.T) {
	input := "GLOBAL UNIQUE IDENTIFIER\tSCIENTIFIC NAME\n" +
		"URN:CornellLabOfOrnithology:EBIRD:OBS1\tCardinalis cardinalis\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '\t',
		HasHeader: true,
	})
	rows, err := drainCSV(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"URN:CornellLabOfOrnithology:EBIRD:OBS1", "Cardinalis cardinalis"}, rows[0])
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	input := "101 , Quercus alba ,-75.5\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		TrimSpace: true,
	})
	rows, err := drainCSV(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"101", "Quercus alba", "-75.5"}, rows[0])
}

func TestStreamCSV_RaggedRows(t *testing.T) {
	input := "101,Quercus alba,-75.5,45.1\n102,Acer saccharum\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := drainCSV(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], 4)
	assert.Len(t, rows[1], 2)
}

func TestStreamCSV_StrayQuotes(t *testing.T) {
	input := `101,Carex "stricta" Lam.,-75.5` + "\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := drainCSV(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, `Carex "stricta" Lam.`, rows[0][1])
}

func TestStreamCSV_Cancelled(t *testing.T) {
	var b strings.Builder
	for i := range 200 {
		fmt.Fprintf(&b, "%d,Quercus alba\n", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(b.String()), CSVOptions{})
	<-rowCh
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	for range rowCh {
	}
}
