// Package mediatypes holds the dependency-free vocabulary shared by the
// ingestion, processing and listing code: media kinds, the upload extension
// allow-list, extension to MIME mapping, and the feed filter and sort enums.
//
// Classification by extension is used for the allow-list check and as a
// fallback; the sniffed content type, classified with [KindOfMIME], is
// authoritative once an upload has been stored.
package mediatypes
