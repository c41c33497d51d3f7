/*
Package flatten converts an arbitrary nested metric body into a flat mapping
of dotted-path keys to typed leaves, ready for relational storage.

# Key Shape

Traversal extends the path with ".key" for object members and ".index" for
array elements, so arrays and objects are indistinguishable in key shape:

	{"labels":{"node":"n1"},"arr":[10,20]}

flattens to:

	labels.node -> Text("n1")
	arr.0       -> Numeric(10)
	arr.1       -> Numeric(20)

# Type Routing

Every leaf resolves to exactly one slot of the Value variant:

  - Numeric: non-boolean numbers (all Go numeric types, json.Number)
  - Text: strings as-is, booleans as "true"/"false", nulls as NullText
  - JSON: any leaf that is still structured, as compact JSON bytes

The (document, key) pair later forms the sink's idempotency key, so the
mapping must be deterministic: identical input always yields the identical
mapping. Flatten is pure computation with no I/O and never returns an error;
unexpected leaf types are coerced, not rejected, so a single odd value cannot
poison an export batch.

No recursion depth limit is enforced; document size and nesting are bounded
upstream by the intake API.
*/
package flatten
