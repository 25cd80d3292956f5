// Package archive copies the audit log to object storage.
//
// An Archiver runs on a schedule. Each run reads the entries created since the
// previous successful run and writes them as one NDJSON object:
//
//	<prefix>YYYY/MM/DD/audit-<start>-<end>.ndjson
//
// The database stays the source of truth; archived objects are copies for
// retention and offline analysis. A failed run leaves the cursor in place so
// the next run covers the same entries again.
//
//	putter, err := archive.NewS3Putter(ctx, archive.S3Config{Bucket: "audit", Region: "us-east-1"})
//	a := archive.New(st, putter, archive.WithPrefix("audit/"))
//	c.AddFunc("@hourly", a.Job(ctx))
package archive
