package state

import (
	"reflect"
	"testing"
	"testing/fstest"
)

func TestListMigrationFiles(t *testing.T) {
	f := fstest.MapFS{
		"notes.md":               {Data: []byte("ignore")},
		"0002_reasons.sql":       {Data: []byte("--")},
		"0001_init.sql":          {Data: []byte("--")},
		"archive/0003_later.sql": {Data: []byte("--")},
	}

	got, err := listMigrationFiles(f)
	if err != nil {
		t.Fatalf("listMigrationFiles returned error: %v", err)
	}
	want := []string{"0001_init.sql", "0002_reasons.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected migration list: got=%v want=%v", got, want)
	}
}
