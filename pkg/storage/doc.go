/*
Package storage archives recommendation reports so past generations can be
browsed after they scroll off the console.

# Storage Interface

Two backends implement Storage:
  - memory: in-memory archive for tests and ephemeral runs
  - badger: BadgerDB (LSM tree + Snappy compression) for a persistent archive

Reports are keyed by generation time, so range queries walk the key space in
order and return the newest reports first.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	archive := storage.NewArchive(store)
	eng, _ := engine.New(cfg, engine.WithPublishers(archive))

	reports, err := store.Query(ctx, storage.QueryRequest{
	    Start: time.Now().Add(-24 * time.Hour),
	    End:   time.Now(),
	    Limit: 20,
	})

# Retention

Delete drops every report generated before a cutoff. The server runs it
hourly with the configured report retention.
*/
package storage
