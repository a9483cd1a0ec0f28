/*
Package registration submits subnet registrations for a set of hotkeys in lock-step with block production.

Every subnet admits new members around a recurring boundary height derived from on-chain parameters
(the last difficulty adjustment plus the adjustment interval). A cycle computes the next boundary,
filters out hotkeys that are already registered and opens a window of consecutive blocks around the boundary.
Each block inside the window owns one slot; when a block arrives, the hotkey assigned to its slot is
composed, wrapped in a batch envelope, signed and submitted without waiting for inclusion.

The window closes once every slot was attempted or the chain moved past its last block.
Failed submissions never abort the window; the affected hotkeys stay non-members and are picked up
by a later cycle.
*/package registration
