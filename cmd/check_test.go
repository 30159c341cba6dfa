package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContactCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.csv")
	csv := "email,phone,first_name,last_name,city,utm_source\n" +
		"amit@solar.in,9876543210,Amit,Patel,Pune,website\n" +
		",9000000001,Priya,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	payloads, err := parseContactCSV(path)
	require.NoError(t, err)
	require.Len(t, payloads, 2)

	assert.Equal(t, "amit@solar.in", payloads[0].Email)
	assert.Equal(t, "Patel", payloads[0].LastName)
	assert.Equal(t, "Pune", payloads[0].City)
	assert.Equal(t, "website", payloads[0].Extra["utm_source"])

	assert.Empty(t, payloads[1].Email)
	assert.Equal(t, "9000000001", payloads[1].Phone)
	assert.Equal(t, "Priya", payloads[1].FirstName)
}

func TestParseContactCSVMissingFile(t *testing.T) {
	_, err := parseContactCSV(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
