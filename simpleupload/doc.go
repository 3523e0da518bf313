// Package simpleupload uploads one local file to one B2 bucket. Run checks
// that the file exists, authorizes the account, resolves the bucket by name,
// obtains an upload URL, hashes the file with digester and streams it with
// uploader, writing operator progress to a console writer.
//
// Remote failures are printed with the service's body unchanged; every
// failure ends the run with an error and nothing is retried.
package simpleupload
