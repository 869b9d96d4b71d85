// Package domain models USGS tide-gauge water levels and the cumulative
// high-tide peak index built from them.
//
// # Data Source
//
// Water levels come from the USGS National Water Information System (NWIS)
// instantaneous-values service, https://waterservices.usgs.gov/nwis/iv/.
// The reference deployment watches site 01412150 (the tide gauge at
// Bivalve, NJ on the Maurice River estuary), requesting parameter code
// 72279 (tidal water-surface elevation) and falling back to 00065 (gage
// height) when the primary series is unavailable for a window. Values are
// feet above the gauge datum, typically sampled every 6 minutes.
//
// The upstream service occasionally reports gaps or provisional values;
// the fetch adapter drops non-finite readings before they reach this
// package. Detection assumes well-formed input: finite values, ascending
// timestamps. Violating the ordering precondition is a caller bug and is
// rejected with [ErrUnsortedSamples] rather than mis-detected.
//
// # Events and Peaks
//
// A high-tide event is a maximal contiguous run of samples at or above
// the minor-flood threshold for the site (4.19 ft at Bivalve, the NWS
// minor coastal flood stage). The event's peak is its maximum sample,
// identified by timestamp. Boundary rules, chosen so the detector cannot
// flap when the water sits exactly at the threshold:
//
//   - value >= threshold enters and continues an event
//   - value < threshold (strict) closes it
//   - within an event, only a strictly greater value moves the peak, so
//     the first sample attaining the maximum wins ties and the peak
//     timestamp is deterministic
//
// An event still open when the sampled window ends is emitted anyway: a
// later run re-scans an overlapping window and, via the merge rule below,
// can only raise the recorded value.
//
// # The Index
//
// The index is the only long-lived entity: one record per event peak,
// keyed by timestamp, unique, ascending, plus site / threshold /
// generated-at metadata. Merging folds freshly detected peaks into the
// loaded index: absent timestamps insert, colliding timestamps keep the
// larger value. Because runs deliberately re-scan a look-back window to
// close events that straddled the previous window's edge, the same
// physical event is often re-detected; the keep-max rule makes the stored
// peak monotone across runs and the whole merge idempotent.
//
// Known approximation, inherited from the product: when more data shifts
// an event's true maximum to a different timestamp, the old and new
// records both remain, leaving two adjacent index entries for one
// physical event. The merge does not coalesce them.
package domain
