// Package models holds the GORM table models. Domain types never carry ORM
// tags; each model converts with ToDomain and a FromDomain constructor.
//
// Cloud tables (PostgreSQL): catalog_imports, tenant_api_keys, sync_records
// and sync_changes. Connector tables (SQLite): local_records and
// sync_states.
package models
