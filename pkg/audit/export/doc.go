// Package export writes audit entries as JSON or CSV.
//
// JSONExporter and CSVExporter serialize a slice of entries or a stream of
// entries read from a channel. SubjectExport gathers every entry a user
// appears in, either as actor or as subject, for data-subject access
// requests.
package export
