// Package artifact persists generated images and their thumbnails and hands
// back stable locators (URLs) for them. Bytes go to a Backend, which is either
// the local filesystem or an S3-compatible bucket.
package artifact
