// Package ingest accepts uploaded files into the gallery.
//
// [Service.Ingest] checks the extension allow-list, spools the stream to a
// scratch file under the size limit, sniffs the real content type, picks a
// collision-free storage key under <root>/<yyyy>/<mm>/ and stores the bytes.
// Only then is a processing row inserted and the item handed to the
// dispatcher. A failed store leaves no row; a failed insert removes the
// stored object; a failed dispatch is logged and the item stays processing
// until an operator requeues it.
package ingest
