// Package blockcache maps requests onto pre-computed cache blocks.
//
// A source with a cache section declares block sets: families of files of
// one calendar size (a day, a month) reduced to one resolution. A request
// is cacheable when some block set satisfies its fixed parameters and is
// at least as fine as the requested resolution. The cache answers from
// disk when every block covering the snapped request range exists;
// otherwise the upstream pipeline answers and fill jobs for the missing
// ranges are queued for the workers.
//
// Blocks live under
//
//	<root>/data/<localId>/<normOpts>/<level>/<Y>/<M>/<D>/<h>/<m>/<start>_<level>.<ext>
//
// with the number of date directories and the precision of <start>
// following the block size.
package blockcache
