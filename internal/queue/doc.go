// Package queue persists outbound call work and customer profiles in SQLite.
//
// The Store manages database connections, schema migrations, the call queue
// lifecycle (queued -> processing -> deleted), and the customer profile
// table that survives queue churn. Entries are removed entirely once a call
// reaches a terminal outcome; the conditional Remove result is how racing
// finalizers (webhook, status poller, reaper) elect a single winner.
//
// The database is treated as working state for in-flight calls rather than
// a long-term archive. Schema changes add a migration file under
// migrations/; applied versions are tracked in schema_migrations.
package queue
