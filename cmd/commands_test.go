package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/data-mapper/internal/dataset"
)

func TestCheckpointCommands(t *testing.T) {
	dir := testEnv(t)

	out, err := execute(t, "", "checkpoint", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved job.")

	saveCheckpoint(t, dir)

	out, err = execute(t, "", "checkpoint", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Progress:     2/3 rows")
	assert.Contains(t, out, "Source field: School")
	assert.Contains(t, out, "emails -> emails")

	out, err = execute(t, "", "checkpoint", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved job discarded.")
	assert.False(t, checkpointExists(t, dir))

	out, err = execute(t, "", "checkpoint", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved job.")
}

func TestExportFailed(t *testing.T) {
	dir := testEnv(t)
	in := filepath.Join(dir, "mapped.csv")
	dst := filepath.Join(dir, "failed.csv")
	writeFile(t, in, "School,emails\n"+
		"Lincoln High,info@lincoln.org\n"+
		"Fail Academy,Error\n"+
		"Roosevelt Middle,\n"+
		"Grant Elementary,no_email_found \n"+
		"Jefferson High,nan\n")

	out, err := execute(t, "", "export-failed", in, dst)
	require.NoError(t, err)
	assert.Contains(t, out, "4 of 5 rows written")
	assert.Equal(t, "School,emails\n"+
		"Fail Academy,Error\n"+
		"Roosevelt Middle,\n"+
		"Grant Elementary,no_email_found \n"+
		"Jefferson High,nan\n",
		readFile(t, dst))
}

func TestExportFailed_CustomMarkers(t *testing.T) {
	dir := testEnv(t)
	in := filepath.Join(dir, "mapped.csv")
	dst := filepath.Join(dir, "failed.csv")
	writeFile(t, in, "School,contact\n"+
		"Lincoln High,info@lincoln.org\n"+
		"Fail Academy,Error\n"+
		"Roosevelt Middle,n/a\n")

	_, err := execute(t, "", "export-failed", in, dst, "--column", "contact", "--marker", "n/a")
	require.NoError(t, err)
	assert.Equal(t, "School,contact\nRoosevelt Middle,n/a\n", readFile(t, dst))
}

func TestExportFailed_UnknownColumn(t *testing.T) {
	dir := testEnv(t)
	in := filepath.Join(dir, "mapped.csv")
	writeFile(t, in, "School\nLincoln High\n")

	_, err := execute(t, "", "export-failed", in, filepath.Join(dir, "failed.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "emails" not found`)
}

func TestColumnsCommands(t *testing.T) {
	dir := testEnv(t)
	in := filepath.Join(dir, "schools.csv")
	writeFile(t, in, schoolsCSV)

	out, err := execute(t, "", "columns", "merge", in, "School", "District")
	require.NoError(t, err)
	assert.Contains(t, out, `Added column "School+District".`)
	assert.Contains(t, readFile(t, in), "Lincoln High,Oakland,Lincoln High Oakland\n")

	_, err = execute(t, "", "columns", "move", in, "School+District", "left")
	require.NoError(t, err)
	assert.Contains(t, readFile(t, in), "School,School+District,District\n")

	_, err = execute(t, "", "columns", "delete", in, "School", "District")
	require.NoError(t, err)
	assert.Equal(t, "School+District\n"+
		"Lincoln High Oakland\n"+
		"Fail Academy Berkeley\n"+
		"Roosevelt Middle Fresno\n",
		readFile(t, in))

	out, err = execute(t, "", "columns", "list", in)
	require.NoError(t, err)
	assert.Contains(t, out, "1\tSchool+District")
}

func TestColumnsCommands_OutputLeavesInputAlone(t *testing.T) {
	dir := testEnv(t)
	in := filepath.Join(dir, "schools.csv")
	dst := filepath.Join(dir, "edited.csv")
	writeFile(t, in, schoolsCSV)

	_, err := execute(t, "", "columns", "delete", in, "District", "--output", dst)
	require.NoError(t, err)
	assert.Equal(t, schoolsCSV, readFile(t, in))
	assert.Equal(t, "School\nLincoln High\nFail Academy\nRoosevelt Middle\n", readFile(t, dst))
}

func TestColumnsMove_BadDirection(t *testing.T) {
	dir := testEnv(t)
	in := filepath.Join(dir, "schools.csv")
	writeFile(t, in, schoolsCSV)

	_, err := execute(t, "", "columns", "move", in, "School", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "direction must be left or right")
}

func TestColumnsCommands_WorkbookKeepsOtherSheets(t *testing.T) {
	dir := testEnv(t)
	in := filepath.Join(dir, "schools.xlsx")
	writeWorkbook(t, in, twoSheets, "Notes", "Schools")

	_, err := execute(t, "", "columns", "move", in, "District", "left", "--sheet", "Schools")
	require.NoError(t, err)

	names, err := dataset.SheetNames(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"Notes", "Schools"}, names)

	schools, err := dataset.LoadXLSX(in, dataset.XLSXOptions{SheetName: "Schools"})
	require.NoError(t, err)
	assert.Equal(t, []string{"District", "School"}, schools.Header())

	notes, err := dataset.LoadXLSX(in, dataset.XLSXOptions{SheetName: "Notes"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"call back monday"}}, notes.Rows())
}
