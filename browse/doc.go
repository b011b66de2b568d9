// Package browse serves a JSON API over a datastack.Stack.
//
// Routes:
//
//	GET    /api/entities/{entity}              list objects, ?limit=
//	GET    /api/entities/{entity}?attr=&value= first object where attr == value
//	GET    /api/entities/{entity}/{id}         one object
//	PUT    /api/entities/{entity}/{id}         create or replace from a JSON object
//	DELETE /api/entities/{entity}/{id}         delete one object
//	DELETE /api/entities/{entity}?attr=&value= delete every match, returns the count
//
// Every write goes through a child of the stack's main context and is saved
// to the store before the response is written.
package browse
