package alerts

// RecordSource exposes the counter script to the external tests.
const RecordSource = recordSource
