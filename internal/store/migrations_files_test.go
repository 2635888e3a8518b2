package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"testing"
)

const testMigrationsDir = "../../db/migrations"

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(filepath.FromSlash(testMigrationsDir))
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file %q in migrations dir", entry.Name())
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	versions := make([]string, 0, len(byVersion))
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	for i, version := range versions {
		n, _ := strconv.Atoi(version)
		if n != i+1 {
			t.Fatalf("migration versions must be contiguous from 1, found %s at position %d", version, i+1)
		}
		if want := fmt.Sprintf("%04d", i+1); version != want {
			t.Fatalf("migration version %s must be zero padded as %s", version, want)
		}
	}
}

func TestMigrationFilesSortsUpFiles(t *testing.T) {
	files, err := migrationFiles(filepath.FromSlash(testMigrationsDir), ".up.sql")
	if err != nil {
		t.Fatalf("migrationFiles() error = %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected at least two up migrations, got %v", files)
	}
	if !sort.StringsAreSorted(files) {
		t.Fatalf("expected sorted files, got %v", files)
	}
	if filepath.Base(files[0]) != "0001_init.up.sql" {
		t.Fatalf("expected 0001_init.up.sql first, got %s", files[0])
	}
}
