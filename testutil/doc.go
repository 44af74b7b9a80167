/*
Package testutil provides test fixtures for the LQAP services.

It contains generators for protocol configurations with test-friendly
timings, enrolled identities, and simulated fleets, using the option
pattern so individual tests customize only what they care about:

	// Default test config: small key trees, short timeouts.
	config := testutil.NewTestConfig()

	// Customized config.
	config := testutil.NewTestConfig(
	    testutil.WithTreeHeight(2),
	    testutil.WithAnomalyFailOpen(true),
	)

	// A station identity in a foreign domain.
	station := testutil.NewTestIdentity("cs-007",
	    testutil.WithRole(protocol.RoleCS),
	    testutil.WithDomain("domain-b"),
	)

	// A mixed two-domain fleet.
	fleet := testutil.NewTestFleet(5, 4)

This package is intended for testing purposes only and should not be used
in production code.
*/
package testutil
