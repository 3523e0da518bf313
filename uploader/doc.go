// Package uploader streams a single local file to a B2 upload URL. The file
// is read in fixed-size blocks that are written straight into the request
// body, so memory use stays at one block whatever the file size. Progress is
// reported after every block through a Reporter.
//
// The request follows the b2_upload_file wire contract: a POST with a
// declared Content-Length (never chunked), the upload authorization token,
// the percent-encoded file name, the SHA-1 of the content, the b2/x-auto
// content type and an uploader version marker.
package uploader
