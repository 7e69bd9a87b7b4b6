// Package retention prunes quota windows and journal entries that have
// aged past a configurable horizon. The janitor only ever deletes whole
// expired rows; live windows are never touched, so a prune pass can run at
// any time without perturbing admission arithmetic.
package retention
