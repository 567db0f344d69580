// Package core turns untrusted, loosely labeled CSV text into validated,
// persisted financial records.
//
// It is independent of any transport: the web server, the CLI and the tests
// all drive the same [Service].
//
// # Pipeline
//
//  1. [ReadTable] or [Tokenize] turns input into a [RawTable].
//  2. [MapHeaders] matches the header row to a [Schema] (exact name, alias,
//     then alias substring) and produces a [FieldMap].
//  3. [FieldMap.Extract] builds one [MappedRow] per data row.
//  4. [ValidateRow] converts a MappedRow into a typed [Record], collecting
//     every problem as a [FieldError]. References are resolved against a
//     [ReferenceIndex] built once per run.
//  5. [BatchImporter] persists valid records in fixed-size batches, one
//     transaction per batch. A failing batch sends all of its rows back as
//     correction candidates; earlier batches stay committed.
//  6. Invalid rows stay on the [Run] as candidates. A [Session] edits,
//     re-validates and imports them one at a time.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category has a code for support reference:
//
//   - DB001-DB007: Database errors (duplicates, constraints, connections)
//   - VAL001-VAL007: Validation errors (formats, missing columns)
//   - FILE001-FILE006: File errors (size, encoding, format)
//   - IMP001-IMP006: Import run errors (busy, expired, invalid transitions)
package core
