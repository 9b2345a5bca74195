// Command galleryctl is the operator CLI for Family Gallery.
//
// Usage:
//
//	galleryctl <command>
//
// Commands:
//
//	user add <email> <display-name> [--admin]
//	        Create an account. The password is read from the terminal
//	        twice without echo. There is no self sign-up; accounts exist
//	        only through this command.
//
//	user reset <email>
//	        Set a new password. All sessions of the user are revoked.
//
//	user list
//	        List accounts with their role and creation date.
//
//	requeue [--older-than=30m] [--limit=500] [--dry-run]
//	        Re-dispatch items that have been processing for longer than
//	        --older-than, for example after a worker crash or a shutdown
//	        that interrupted processing. The server never retries on its
//	        own. In inline mode the items are processed in this process.
//
//	status  Show item counts per kind and status.
//
// Environment:
//
// galleryctl reads the same variables as gallery-server. DATABASE_DIR
// locates the database; the storage and dispatch settings are only used by
// requeue.
package main
