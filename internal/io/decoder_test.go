package io

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// createXLSXBytes builds an in-memory workbook whose first sheet holds rows.
func createXLSXBytes(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &rows[i]))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecodeCSV(t *testing.T) {
	data := "\xEF\xBB\xBFCustomer ID, Client Name ,Lesson Date\n" +
		"C1,  Ada Lovelace ,2024-01-05\n" +
		"\n" +
		"C2,Grace Hopper\n"

	table, err := Decode([]byte(data), "export.CSV", DefaultDecodeOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"Customer ID", "Client Name", "Lesson Date"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, 2, table.Rows[0].Number)
	assert.Equal(t, "Ada Lovelace", table.Rows[0].Values["Client Name"])
	assert.Equal(t, 4, table.Rows[1].Number, "the skipped empty line still counts")
	assert.Equal(t, "", table.Rows[1].Values["Lesson Date"], "short rows are padded")
}

func TestDecodeKeepsPhysicalRowNumbers(t *testing.T) {
	testCases := []struct {
		name     string
		data     string
		expected []int
	}{
		{name: "blank cells", data: "a,b\n1,2\n,\n3,\n", expected: []int{2, 4}},
		{name: "empty line", data: "a,b\n1,2\n\n3,\n", expected: []int{2, 4}},
		{name: "whitespace row", data: "a,b\n , \n1,2\n\n\n3,4\n", expected: []int{3, 6}},
		{name: "quoted multi-line cell", data: "a,b\n\"x\ny\",2\n3,4\n", expected: []int{2, 4}},
		{name: "leading blank line", data: "\na,b\n1,2\n", expected: []int{3}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			table, err := Decode([]byte(tc.data), "rows.csv", DefaultDecodeOptions())
			require.NoError(t, err)
			numbers := make([]int, len(table.Rows))
			for i, r := range table.Rows {
				numbers[i] = r.Number
			}
			assert.Equal(t, tc.expected, numbers)
		})
	}
}

func TestDecodeCSVCustomSeparators(t *testing.T) {
	data := "person_id;person_name~P1;Ada~P2;\"Hopper; Grace\"~"
	table, err := Decode([]byte(data), "x.csv", DecodeOptions{Delimiter: ';', LineSeparator: "~"})
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Hopper; Grace", table.Rows[1].Values["person_name"])
}

func TestDecodeDuplicateHeadersLastWins(t *testing.T) {
	data := "id,name,,name\n1,first,ignored,second\n"
	table, err := Decode([]byte(data), "dup.csv", DefaultDecodeOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, table.Headers)
	assert.Equal(t, "second", table.Rows[0].Values["name"])
	assert.Len(t, table.Rows[0].Values, 2)
}

func TestDecodeEmptyFiles(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{name: "zero bytes", data: ""},
		{name: "header only", data: "a,b,c\n"},
		{name: "header and blank rows", data: "a,b\n,\n , \n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data), "f.csv", DefaultDecodeOptions())
			assert.ErrorIs(t, err, ErrEmptyFile)
		})
	}
}

func TestDecodeUnsupportedExtension(t *testing.T) {
	for _, name := range []string{"notes.txt", "data.json", "noext"} {
		_, err := Decode([]byte("a,b\n1,2\n"), name, DefaultDecodeOptions())
		assert.ErrorIs(t, err, ErrUnsupportedFileType, name)
	}
}

func TestDecodeXLSX(t *testing.T) {
	data := createXLSXBytes(t, [][]interface{}{
		{"customer_id", "client_name", "lesson_date", "location"},
		{"C1", "Ada Lovelace", 45296, nil},
		{nil, nil, nil, nil},
		{"C2", "Grace Hopper", "2024-01-10", "Hall A"},
	})

	table, err := Decode(data, "Lessons.xlsx", DefaultDecodeOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"customer_id", "client_name", "lesson_date", "location"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, 2, table.Rows[0].Number)
	assert.Equal(t, 4, table.Rows[1].Number, "the blank sheet row still counts")
	assert.Equal(t, "45296", table.Rows[0].Values["lesson_date"])
	assert.Equal(t, "", table.Rows[0].Values["location"])
	assert.Equal(t, "Hall A", table.Rows[1].Values["location"])
}

func TestDecodeXLSFamilies(t *testing.T) {
	t.Run("ooxml bytes with xls extension", func(t *testing.T) {
		data := createXLSXBytes(t, [][]interface{}{{"a", "b"}, {"1", "2"}})
		table, err := Decode(data, "legacy.xls", DefaultDecodeOptions())
		require.NoError(t, err)
		assert.Equal(t, "2", table.Rows[0].Values["b"])
	})

	t.Run("tab separated text", func(t *testing.T) {
		table, err := Decode([]byte("a\tb\n1\t2\n"), "report.xls", DefaultDecodeOptions())
		require.NoError(t, err)
		assert.Equal(t, "2", table.Rows[0].Values["b"])
	})

	t.Run("binary biff workbook", func(t *testing.T) {
		ole := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, bytes.Repeat([]byte{0}, 1024)...)
		_, err := Decode(ole, "old.xls", DefaultDecodeOptions())
		assert.ErrorIs(t, err, ErrLegacyWorkbook)
	})
}

func TestDecodeCorruptWorkbook(t *testing.T) {
	_, err := Decode([]byte("definitely not a zip"), "broken.xlsx", DefaultDecodeOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open workbook")
}
