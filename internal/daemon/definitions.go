package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/weftlabs/weft/internal/events"
)

// definitionFile is one JSON file in the definitions directory:
//
//	{
//	  "commands":      {"lock": {"setConfig": {...}}},
//	  "state":         {"lock": {"lockedState": {...}}},
//	  "stateDefaults": {"lock": {"lockedState": "locked"}}
//	}
type definitionFile struct {
	Commands      map[string]any `json:"commands"`
	State         map[string]any `json:"state"`
	StateDefaults map[string]any `json:"stateDefaults"`
}

func readDefinitionFiles(dir string) ([]definitionFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	files := make([]definitionFile, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var f definitionFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// loadInitialDefinitions populates the dictionary and state manager
// from the definitions directory at startup.
func (d *Daemon) loadInitialDefinitions(dir string) error {
	files, err := readDefinitionFiles(dir)
	if err != nil {
		return err
	}

	var loadErr error
	doErr := d.do(func() {
		for _, f := range files {
			if f.Commands != nil {
				if err := d.device.AddCommandDefinitionsFromDocument(f.Commands); err != nil {
					loadErr = err
					return
				}
			}
			if f.State != nil {
				if err := d.device.AddStateDefinitionsFromDocument(f.State); err != nil {
					loadErr = err
					return
				}
			}
		}
		// Defaults apply after all schemas are declared.
		for _, f := range files {
			if f.StateDefaults != nil {
				if err := d.device.SetStatePropertiesFromDocument(f.StateDefaults); err != nil {
					loadErr = err
					return
				}
			}
		}
	})
	if doErr != nil {
		return doErr
	}
	return loadErr
}

// reloadDefinitions re-reads the definitions directory and replaces the
// command dictionary wholesale. Concurrent callers share one reload.
// Returns the number of commands in the new dictionary.
func (d *Daemon) reloadDefinitions() (int, error) {
	v, err, _ := d.reloadSF.Do("reload", func() (any, error) {
		files, err := readDefinitionFiles(d.definitionsDir())
		if err != nil {
			return 0, err
		}

		var docs []any
		for _, f := range files {
			if f.Commands != nil {
				docs = append(docs, f.Commands)
			}
		}

		var count int
		var reloadErr error
		doErr := d.do(func() {
			if reloadErr = d.device.Dictionary().Reload(docs); reloadErr != nil {
				return
			}
			// State schemas only grow; declarations cannot be withdrawn
			// while properties may hold values under them.
			for _, f := range files {
				if f.State != nil {
					if reloadErr = d.device.AddStateDefinitionsFromDocument(f.State); reloadErr != nil {
						return
					}
				}
			}
			count = d.device.Dictionary().Len()
		})
		if doErr != nil {
			return 0, doErr
		}
		if reloadErr != nil {
			return 0, reloadErr
		}

		d.log(LogLevelInfo, "definitions reloaded commands=%d", count)
		d.bus.Publish(events.EventDefinitionsReloaded, map[string]any{"commands": count})
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}
