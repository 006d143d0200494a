// Package tokenstore persists the firehose access token between process runs.
//
// Three backends are available:
//   - File: one plain file per environment holding the raw token, written atomically with 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//   - Env: read-only seed value taken from an environment variable
//
// Stores only hold bytes. Deciding whether a stored value is plausible, and when to
// overwrite or clear it, is left to the caller.
package tokenstore
