package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFiles(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrationsFromFS_PairsAndOrders(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationFiles(map[string]string{
		"0002_ledger.up.sql":   "CREATE TABLE seller_ledger (id INT);",
		"0002_ledger.down.sql": "DROP TABLE seller_ledger;",
		"0001_init.up.sql":     "CREATE TABLE orders (id INT);",
		"0001_init.down.sql":   "DROP TABLE orders;",
		"README.md":            "ignored",
	}))
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].String() != "0001_init" || migrations[1].String() != "0002_ledger" {
		t.Fatalf("unexpected order: %s, %s", migrations[0], migrations[1])
	}
	if migrations[1].body(migrationDown) != "DROP TABLE seller_ledger;" {
		t.Fatalf("unexpected down body: %q", migrations[1].DownSQL)
	}
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "missing down",
			files:   map[string]string{"0001_init.up.sql": "SELECT 1;"},
			wantErr: "both up and down",
		},
		{
			name:    "invalid name",
			files:   map[string]string{"init.sql": "SELECT 1;"},
			wantErr: "invalid migration file name",
		},
		{
			name:    "empty body",
			files:   map[string]string{"0001_init.up.sql": "  \n", "0001_init.down.sql": "SELECT 1;"},
			wantErr: "empty",
		},
		{
			name:    "name mismatch",
			files:   map[string]string{"0001_init.up.sql": "SELECT 1;", "0001_other.down.sql": "SELECT 1;"},
			wantErr: "name mismatch",
		},
		{
			name:    "no sql files",
			files:   map[string]string{"README.md": "nothing here"},
			wantErr: "no migration files",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadMigrationsFromFS(migrationFiles(tc.files))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadMigrationsFromFS_EmbeddedSchema(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 embedded migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[1].UpSQL, "UNIQUE (order_id, seller_id)") {
		t.Fatal("ledger uniqueness constraint must be part of the schema")
	}
	if migrations[2].Name != "timeline_details" || !strings.Contains(migrations[2].DownSQL, "DROP COLUMN IF EXISTS details") {
		t.Fatalf("unexpected third migration: %s", migrations[2])
	}
}

func TestPlanUp(t *testing.T) {
	t.Parallel()

	all := []migration{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}, {Version: 3, Name: "c"}}

	testCases := []struct {
		name    string
		applied []int64
		steps   int
		want    []int64
	}{
		{name: "fresh schema all steps", want: []int64{1, 2, 3}},
		{name: "fresh schema one step", steps: 1, want: []int64{1}},
		{name: "partially applied", applied: []int64{1}, want: []int64{2, 3}},
		{name: "gap is filled", applied: []int64{1, 3}, want: []int64{2}},
		{name: "up to date", applied: []int64{1, 2, 3}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assertVersions(t, planUp(all, tc.applied, tc.steps), tc.want)
		})
	}
}

func TestPlanDown(t *testing.T) {
	t.Parallel()

	all := []migration{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}}

	plan, err := planDown(all, []int64{1, 2}, 1)
	if err != nil {
		t.Fatalf("planDown failed: %v", err)
	}
	assertVersions(t, plan, []int64{2})

	plan, err = planDown(all, []int64{1, 2}, 10)
	if err != nil {
		t.Fatalf("planDown failed: %v", err)
	}
	assertVersions(t, plan, []int64{2, 1})

	plan, err = planDown(all, nil, 1)
	if err != nil {
		t.Fatalf("planDown on empty schema failed: %v", err)
	}
	assertVersions(t, plan, nil)

	if _, err := planDown(all, []int64{1, 2, 7}, 1); err == nil {
		t.Fatal("expected error for applied version without files")
	}
}

func assertVersions(t *testing.T, plan []migration, want []int64) {
	t.Helper()

	if len(plan) != len(want) {
		t.Fatalf("unexpected plan size: got=%d want=%d (%v)", len(plan), len(want), plan)
	}
	for i, m := range plan {
		if m.Version != want[i] {
			t.Fatalf("unexpected version at %d: got=%d want=%d", i, m.Version, want[i])
		}
	}
}
