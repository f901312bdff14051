// Package storage provides object storage for file-processing jobs: an S3
// implementation built on aws-sdk-go-v2 and an in-memory one for tests.
//
// SDK errors are classified into sentinels (ErrObjectNotFound,
// ErrAccessDenied, ErrServiceUnavailable...) so callers can decide whether a
// failure is worth a retry.
package storage
