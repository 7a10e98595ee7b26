// Package upload provides durable storage for files parsed out of request
// bodies. The server writes uploads into a per-request temporary directory
// that disappears with the request; handlers promote files they want to
// keep into a Store. DiskStore keeps them on the local filesystem,
// S3Store in an S3 bucket with presigned claim URLs.
package upload
