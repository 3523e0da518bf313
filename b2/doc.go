// Package b2 implements the three Backblaze B2 native API calls needed
// before an upload: b2_authorize_account, b2_list_buckets and
// b2_get_upload_url. Non-200 answers are returned as *APIError carrying the
// service's body unchanged.
package b2
