// Package output writes task results below the output root.
//
// [FileWriter] replaces files atomically; [DryRunWriter] only reports what
// would change and can print unified diffs for text assets.
package output
