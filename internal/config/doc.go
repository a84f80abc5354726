// Package config loads process configuration for the syncpage server.
//
// Settings come from two places: environment variables, parsed into Env,
// and an apps file describing the route table, parsed by LoadApps.
//
// # Apps File Structure
//
//	apps:
//	  - name: admin
//	    head: |
//	      <title>Admin</title>
//	    routes:
//	      - path: /admin
//	        filters:
//	          - requireLogin /login
//	          - requireAdmin /
//	        routes:
//	          - path: /admin/users/:id
//	            filters:
//	              - requireAdmin /
//	              - name: fetchDoc
//	                args: [users, id, user]
//	  - name: main
//	    routes:
//	      - path: /old/:id
//	        redirect: /new/:id
//	      - path: /*rest
//
// Filters are written either as "name arg..." or as a mapping with name and
// args, and are resolved through a filter.Registry. A route runs only its
// own filters, not those of its parents.
//
// # Usage
//
//	env, err := config.LoadEnv()
//	if err != nil {
//	    return err
//	}
//	apps, err := config.LoadApps(env.AppsFile, filter.NewRegistry())
package config
