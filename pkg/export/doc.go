/*
Package export implements the batch exporter that replicates metric documents
from the document store into the relational key-value table.

# Write Path

Each invocation, incremental or full, follows the same path:

 1. Flatten every document body into dotted-key rows tagged with the
    document's id, publisher and timestamp.
 2. Ensure the sink schema exists (idempotent create-if-not-exists).
 3. Write all rows in a single transaction with conflict-skip on
    (source id, key): a replayed row is silently ignored, never overwritten.
 4. Commit. Incremental runs then, and only then, advance the watermark to
    the (timestamp, id) of the last fetched document.

# Delivery Guarantees

A failed sink write rolls back the whole transaction and leaves the
watermark untouched, so the next incremental run safely re-fetches the same
batch. A crash between commit and watermark save re-delivers an
already-committed batch; conflict-skip makes the replay a no-op. Documents
can therefore be re-processed but never lost.

Two incremental exporters must not share a processor name: watermark
advancement is single-writer by assumption, not by lock. A full export has no
watermark and can run concurrently with anything.

# Reporting

Result.RowsAttempted counts rows handed to the sink, not rows actually new;
the sink does not report which rows were conflict-skipped. Accepted reporting
imprecision, kept from the original pipeline.
*/
package export
